// Package redis connects to Redis with retries and exposes a readiness probe.
//
// The checkout session cache is the only consumer. Redis is optional: when
// REDIS_URL is empty the server runs with an in-process cache instead.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	probe := redis.Healthcheck(client)
package redis
