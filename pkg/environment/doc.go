// Package environment carries the deployment environment (development,
// staging, production) through request contexts and log records.
//
//	r.Use(environment.Middleware(environment.Parse(cfg.Env)))
//
//	if environment.IsProduction(r.Context()) {
//		// refuse operator-only actions
//	}
//
// LoggerExtractor plugs into logger.WithContextExtractors and adds an "env"
// attribute to every record logged with a request context.
package environment
