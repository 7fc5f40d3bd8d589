package orm

import (
	"context"

	"appfuel/db"
)

// SourceDB is the name of the database source
const SourceDB = "db"

// DbSource is the source handler sending requests to one connector. An
// empty connector name uses the pool default.
type DbSource struct {
	handler   *db.Handler
	connector string
}

func NewDbSource(handler *db.Handler, connector string) *DbSource {
	return &DbSource{handler: handler, connector: connector}
}

func (s *DbSource) Name() string { return SourceDB }

func (s *DbSource) Connector() string { return s.connector }

// Execute runs req on the source's connector
func (s *DbSource) Execute(ctx context.Context, req *db.Request) *db.Response {
	if s.connector == "" {
		return s.handler.Execute(ctx, req)
	}
	return s.handler.ExecuteOn(ctx, s.connector, req)
}
