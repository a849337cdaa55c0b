// Package registry maps share, schema and table names to table locations.
package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/florinutz/deltashare/snapshot"
)

// Share is a named group of schemas.
type Share struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Schema is a named group of tables within a share.
type Schema struct {
	Name  string `json:"name"`
	Share string `json:"share"`
}

// Table is a shared table and the location of its Delta log root.
type Table struct {
	Name     string `json:"name"`
	Schema   string `json:"schema"`
	Share    string `json:"share"`
	ShareID  string `json:"shareId,omitempty"`
	ID       string `json:"id,omitempty"`
	Location string `json:"-"`
}

// FullName returns share.schema.table.
func (t Table) FullName() string {
	return t.Share + "." + t.Schema + "." + t.Name
}

// Ref returns the identity and location snapshots are built for.
func (t Table) Ref() snapshot.Ref {
	return snapshot.Ref{ID: t.ID, Location: t.Location}
}

// Registry resolves names to tables. Unknown names return a
// *sharingerr.NotFoundError. Listings are sorted by name.
type Registry interface {
	Lookup(ctx context.Context, share, schema, table string) (Table, error)
	Shares(ctx context.Context) ([]Share, error)
	Share(ctx context.Context, name string) (Share, error)
	Schemas(ctx context.Context, share string) ([]Schema, error)
	Tables(ctx context.Context, share, schema string) ([]Table, error)
	AllTables(ctx context.Context, share string) ([]Table, error)
}

// DefaultShareID derives a stable share ID from its name.
func DefaultShareID(share string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("deltashare:share:"+share)).String()
}

// DefaultTableID derives a stable table ID from its full name.
func DefaultTableID(share, schema, table string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("deltashare:table:"+share+"."+schema+"."+table)).String()
}
