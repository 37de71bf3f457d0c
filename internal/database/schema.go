package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/gocql/gocql"
)

const (
	TableOrdersByUser       = "orders_by_user"
	TableOrdersByStatus     = "orders_by_status"
	TableProductsByCategory = "products_by_category"
	TableProductsByID       = "products_by_id"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// ValidKeyspace reports whether name can be interpolated into DDL unquoted.
func ValidKeyspace(name string) bool {
	return identPattern.MatchString(name)
}

func keyspaceStatement(keyspace string, replicationFactor int) string {
	return fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
		WITH REPLICATION = { 'class': 'SimpleStrategy', 'replication_factor': %d }`,
		keyspace, replicationFactor)
}

type tableDDL struct {
	table string
	stmt  string
}

// tableColumns holds each table's column and key definitions, in creation order.
var tableColumns = []struct {
	table   string
	columns string
}{
	{TableOrdersByUser, `
			user_id UUID,
			order_id UUID,
			order_date TIMESTAMP,
			status TEXT,
			product_id UUID,
			name TEXT,
			quantity INT,
			price DECIMAL,
			PRIMARY KEY (user_id, order_id)`},
	{TableOrdersByStatus, `
			status TEXT,
			order_id UUID,
			user_id UUID,
			order_date TIMESTAMP,
			total_price DECIMAL,
			product_id UUID,
			PRIMARY KEY (status, order_id)`},
	{TableProductsByCategory, `
			category TEXT,
			product_id UUID,
			name TEXT,
			description TEXT,
			price DECIMAL,
			attributes MAP<TEXT, TEXT>,
			PRIMARY KEY (category, product_id)`},
	{TableProductsByID, `
			product_id UUID PRIMARY KEY,
			category TEXT,
			name TEXT,
			description TEXT,
			price DECIMAL,
			attributes MAP<TEXT, TEXT>`},
}

// tableStatements lists the table DDL, qualified with keyspace.
func tableStatements(keyspace string) []tableDDL {
	out := make([]tableDDL, 0, len(tableColumns))
	for _, t := range tableColumns {
		out = append(out, tableDDL{
			table: t.table,
			stmt:  fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (%s\n\t\t)", keyspace, t.table, t.columns),
		})
	}
	return out
}

// EnsureSchema creates the keyspace and every table if absent. Safe to run
// repeatedly and from several processes at once.
func EnsureSchema(ctx context.Context, session *gocql.Session, keyspace string, replicationFactor int) error {
	if !ValidKeyspace(keyspace) {
		return fmt.Errorf("%w: keyspace name %q", ErrInvalidInput, keyspace)
	}

	if err := session.Query(keyspaceStatement(keyspace, replicationFactor)).WithContext(ctx).Exec(); err != nil {
		return WrapError(err, "create keyspace "+keyspace, "")
	}

	for _, ddl := range tableStatements(keyspace) {
		if err := session.Query(ddl.stmt).WithContext(ctx).Exec(); err != nil {
			return WrapError(err, "create table", ddl.table)
		}
	}

	return nil
}
