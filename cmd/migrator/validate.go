package main

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

// migrationInfo contains parsed information about one migration file.
type migrationInfo struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// Migration filename format: 001_migration_name.up.sql or 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// ValidateMigrations checks the embedded migration set: every .sql file must
// follow the naming convention, every up migration needs a matching down
// migration, and sequence numbers must run from 001 without gaps.
//
// The set is fixed at build time, so any failure here is a packaging error
// rather than an operational one.
func ValidateMigrations(fsys fs.FS) error {
	files, err := listMigrationFiles(fsys)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files embedded")
	}

	parsed := make([]*migrationInfo, 0, len(files))

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		parsed = append(parsed, info)
	}

	if err := validatePairing(parsed); err != nil {
		return err
	}

	return validateSequence(parsed)
}

// listMigrationFiles returns the sorted .sql filenames at the root of fsys.
func listMigrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration filesystem: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if migrationFilenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)

	return files, nil
}

// parseMigrationFilename extracts the components of a migration filename.
func parseMigrationFilename(filename string) (*migrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf("invalid migration filename: %s (expected 001_name.up.sql or 001_name.down.sql)", filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &migrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has a matching down migration
// and vice versa.
func validatePairing(migrations []*migrationInfo) error {
	directions := make(map[string]map[string]bool)

	for _, m := range migrations {
		key := fmt.Sprintf("%03d_%s", m.Sequence, m.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][m.Direction] = true
	}

	for key, dirs := range directions {
		if !dirs["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !dirs["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures sequence numbers start at 001 and have no gaps.
func validateSequence(migrations []*migrationInfo) error {
	seen := make(map[int]bool)

	for _, m := range migrations {
		seen[m.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", sequences[i-1]+1, sequences[i])
		}
	}

	return nil
}
