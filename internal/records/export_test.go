package records

import "context"

// ForceSchemaVersionForTest rewrites the stored schema version.
func ForceSchemaVersionForTest(s *Store, version int) error {
	_, err := s.db.ExecContext(context.Background(), "UPDATE schema_version SET version = ?", version)
	return err
}
