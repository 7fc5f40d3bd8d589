package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		expect []string
	}{
		{"single", "SELECT 1", []string{"SELECT 1"}},
		{"two", "SELECT 1; SELECT 2;", []string{"SELECT 1", "SELECT 2"}},
		{"empty statements dropped", ";;SELECT 1;;", []string{"SELECT 1"}},
		{"semicolon in string", "INSERT INTO t VALUES ('a;b'); SELECT 2", []string{"INSERT INTO t VALUES ('a;b')", "SELECT 2"}},
		{"escaped quote", `SELECT 'it''s;'; SELECT "x\";"`, []string{`SELECT 'it''s;'`, `SELECT "x\";"`}},
		{"line comment", "SELECT 1 -- a;b\n; SELECT 2", []string{"SELECT 1 -- a;b", "SELECT 2"}},
		{"block comment", "SELECT /* ; */ 1; SELECT 2", []string{"SELECT /* ; */ 1", "SELECT 2"}},
		{"backtick", "SELECT `a;b` FROM t", []string{"SELECT `a;b` FROM t"}},
		{"double dash without space", "SELECT 1--1; SELECT 2", []string{"SELECT 1--1", "SELECT 2"}},
		{"double dash with tab", "SELECT 1 --\t;x\n; SELECT 2", []string{"SELECT 1 --\t;x", "SELECT 2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, SplitStatements(tt.sql))
		})
	}
}

func TestCountPlaceholders(t *testing.T) {
	assert.Equal(t, 0, countPlaceholders("SELECT 1"))
	assert.Equal(t, 2, countPlaceholders("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, 1, countPlaceholders("SELECT '?' FROM t WHERE a = ? -- ?"))
	assert.Equal(t, 0, countPlaceholders("SELECT `?` /* ? */"))
	assert.Equal(t, 2, countPlaceholders("SELECT ?--?"))
	assert.Equal(t, 1, countPlaceholders("SELECT ? --"))
}

func TestReturnsRows(t *testing.T) {
	assert.True(t, returnsRows("select 1"))
	assert.True(t, returnsRows("  (SELECT 1) UNION (SELECT 2)"))
	assert.True(t, returnsRows("SHOW TABLES"))
	assert.False(t, returnsRows("INSERT INTO t VALUES (1)"))
	assert.False(t, returnsRows(""))
}
