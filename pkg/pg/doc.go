// Package pg wires PostgreSQL through pgx/v5: a pooled connection with startup
// retry, goose migrations run over the same pool, a readiness probe and
// SQLSTATE-based error classification.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log, migrations.FS); err != nil {
//		return err
//	}
//
// Error helpers such as IsInvalidTextRepresentation or IsTransientError unwrap
// *pgconn.PgError so callers can map driver failures to domain errors.
package pg
