// Package config loads typed configuration structs from environment
// variables.
//
// Every package that needs settings declares its own struct with
// github.com/caarlos0/env tags (pg.Config, redis.Config, jwt.Config,
// subscription.StripeConfig, ...). cmd/server loads each of them through
// Load or MustLoad. Values from a local .env file are applied first via
// github.com/joho/godotenv; real environment variables take precedence.
package config
