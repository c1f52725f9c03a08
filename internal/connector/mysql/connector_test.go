package mysql

import (
	"errors"
	"strings"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/kitbay/kitbay/internal/connector"
)

func TestCreateTableSQL(t *testing.T) {
	sql := New().CreateTableSQL("backups", []connector.ColumnDef{
		{Name: "id", Kind: connector.KindID, PrimaryKey: true},
		{Name: "featured", Kind: connector.KindBool},
		{Name: "checksum", Kind: connector.KindText},
		{Name: "created_at", Kind: connector.KindTime},
	})
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS `backups`",
		"`id` VARCHAR(64) PRIMARY KEY",
		"`featured` TINYINT(1)",
		"`checksum` LONGTEXT",
		"`created_at` DATETIME(6)",
		"ENGINE=InnoDB",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in:\n%s", want, sql)
		}
	}
}

func TestCreateIndexSQLHasNoGuard(t *testing.T) {
	got := New().CreateIndexSQL("idx_backups_created", "backups", []string{"created_at"})
	if got != "CREATE INDEX `idx_backups_created` ON `backups` (`created_at`)" {
		t.Errorf("got %q", got)
	}
}

func TestIsAlreadyExists(t *testing.T) {
	c := New()
	tests := []struct {
		err  error
		want bool
	}{
		{&mysqldriver.MySQLError{Number: 1050}, true},
		{&mysqldriver.MySQLError{Number: 1060}, true},
		{&mysqldriver.MySQLError{Number: 1061}, true},
		{&mysqldriver.MySQLError{Number: 1062}, false},
		{errors.New("Duplicate key name"), false},
	}
	for _, tt := range tests {
		if got := c.IsAlreadyExists(tt.err); got != tt.want {
			t.Errorf("IsAlreadyExists(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestQueryFragments(t *testing.T) {
	c := New()
	if got := c.ILike("`name`"); got != "LOWER(`name`) LIKE LOWER(?) ESCAPE '!'" {
		t.Errorf("ILike = %q", got)
	}
	if got := c.LimitOffset(3, 0); got != "LIMIT 3" {
		t.Errorf("LimitOffset = %q", got)
	}
	if got := c.QuoteIdentifier("a`b"); got != "`a``b`" {
		t.Errorf("QuoteIdentifier = %q", got)
	}
}
