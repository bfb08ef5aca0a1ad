package dump

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/the-luap/picpeak-backup/internal/config"
)

// EnginePostgres names the PostgreSQL dump engine.
const EnginePostgres = "postgres"

// Postgres produces and applies dumps via pg_dump/psql.
type Postgres struct {
	cfg config.DBConfig

	// output runs a query command and returns its stdout. Stubbed in
	// tests; the default shells out.
	output func(cmd *exec.Cmd) ([]byte, error)
}

var (
	_ Producer  = (*Postgres)(nil)
	_ Applier   = (*Postgres)(nil)
	_ Inspector = (*Postgres)(nil)
)

// NewPostgres returns a Postgres engine configured from cfg.
func NewPostgres(cfg config.DBConfig) *Postgres {
	return &Postgres{cfg: cfg, output: (*exec.Cmd).Output}
}

func (p *Postgres) env() []string {
	env := os.Environ()
	if p.cfg.Password != "" {
		env = append(env, "PGPASSWORD="+p.cfg.Password)
	}
	return env
}

func (p *Postgres) connArgs() []string {
	args := []string{"-h", p.cfg.Host, "-p", p.cfg.Port, "-U", p.cfg.Username}
	return args
}

// Dump streams a plain-format pg_dump of the configured database.
func (p *Postgres) Dump(ctx context.Context) (io.ReadCloser, Info, error) {
	args := append(p.connArgs(), "--format=plain", "-d", p.cfg.Database)
	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Env = p.env()

	info := Info{Engine: EnginePostgres}
	if counts, err := p.RowCounts(ctx); err == nil {
		info.RowCounts = counts
	}

	rc, err := startStream(cmd)
	if err != nil {
		return nil, Info{}, fmt.Errorf("pg_dump: %w", err)
	}
	return rc, info, nil
}

// Apply feeds a plain-format dump into psql.
func (p *Postgres) Apply(ctx context.Context, r io.Reader) error {
	args := append(p.connArgs(), "-v", "ON_ERROR_STOP=1", "-d", p.cfg.Database)
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = p.env()
	cmd.Stdin = r

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("psql restore: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// RowCounts reports exact per-table row counts via COUNT(*). Statistics
// estimates (n_live_tup) lag behind writes and cannot be compared for
// equality against a freshly restored database.
func (p *Postgres) RowCounts(ctx context.Context) (map[string]int64, error) {
	tables, err := p.query(ctx, "SELECT tablename FROM pg_tables WHERE schemaname = 'public'")
	if err != nil {
		return nil, fmt.Errorf("psql list tables: %w", err)
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		lines, err := p.query(ctx, "SELECT COUNT(*) FROM public."+quotePgIdent(table))
		if err != nil {
			return nil, fmt.Errorf("psql count %s: %w", table, err)
		}
		if len(lines) != 1 {
			return nil, fmt.Errorf("psql count %s: unexpected output %q", table, lines)
		}
		n, err := strconv.ParseInt(lines[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("psql count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// query runs one SQL statement through psql and returns non-empty
// output lines.
func (p *Postgres) query(ctx context.Context, sql string) ([]string, error) {
	args := append(p.connArgs(), "-d", p.cfg.Database, "-At", "-c", sql)
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = p.env()

	out, err := p.output(cmd)
	if err != nil {
		return nil, err
	}
	return outputLines(out)
}

func quotePgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func outputLines(out []byte) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
