package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/the-luap/picpeak-backup/internal/config"
)

// EngineMySQL names the MySQL dump engine.
const EngineMySQL = "mysql"

// MySQL produces and applies dumps via mysqldump/mysql.
type MySQL struct {
	cfg config.DBConfig

	// output runs a query command and returns its stdout. Stubbed in
	// tests; the default shells out.
	output func(cmd *exec.Cmd) ([]byte, error)
}

var (
	_ Producer  = (*MySQL)(nil)
	_ Applier   = (*MySQL)(nil)
	_ Inspector = (*MySQL)(nil)
)

// NewMySQL returns a MySQL engine configured from cfg.
func NewMySQL(cfg config.DBConfig) *MySQL {
	return &MySQL{cfg: cfg, output: (*exec.Cmd).Output}
}

func (m *MySQL) connArgs() []string {
	args := []string{"-h", m.cfg.Host, "-P", m.cfg.Port, "-u", m.cfg.Username}
	if m.cfg.Password != "" {
		args = append(args, "-p"+m.cfg.Password)
	}
	return args
}

// Dump streams a mysqldump of the configured database.
func (m *MySQL) Dump(ctx context.Context) (io.ReadCloser, Info, error) {
	args := append(m.connArgs(), "--single-transaction", m.cfg.Database)
	cmd := exec.CommandContext(ctx, "mysqldump", args...)

	info := Info{Engine: EngineMySQL}
	if counts, err := m.RowCounts(ctx); err == nil {
		info.RowCounts = counts
	}

	rc, err := startStream(cmd)
	if err != nil {
		return nil, Info{}, fmt.Errorf("mysqldump: %w", err)
	}
	return rc, info, nil
}

// Apply feeds a dump into the mysql client.
func (m *MySQL) Apply(ctx context.Context, r io.Reader) error {
	args := append(m.connArgs(), m.cfg.Database)
	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Stdin = r

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mysql restore: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// RowCounts reports exact per-table row counts via COUNT(*). The
// information_schema table_rows estimate is refreshed lazily and cannot
// be compared for equality against a freshly restored database.
func (m *MySQL) RowCounts(ctx context.Context) (map[string]int64, error) {
	listQuery := fmt.Sprintf(
		"SELECT table_name FROM information_schema.tables WHERE table_schema='%s' AND table_type='BASE TABLE'",
		m.cfg.Database)
	tables, err := m.query(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("mysql list tables: %w", err)
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		lines, err := m.query(ctx, "SELECT COUNT(*) FROM "+quoteMySQLIdent(table))
		if err != nil {
			return nil, fmt.Errorf("mysql count %s: %w", table, err)
		}
		if len(lines) != 1 {
			return nil, fmt.Errorf("mysql count %s: unexpected output %q", table, lines)
		}
		n, err := strconv.ParseInt(lines[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("mysql count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// query runs one SQL statement through the mysql client and returns
// non-empty output lines.
func (m *MySQL) query(ctx context.Context, sql string) ([]string, error) {
	args := append(m.connArgs(), m.cfg.Database, "-N", "-e", sql)
	cmd := exec.CommandContext(ctx, "mysql", args...)

	out, err := m.output(cmd)
	if err != nil {
		return nil, err
	}
	return outputLines(out)
}

func quoteMySQLIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
