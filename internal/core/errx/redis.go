package errx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors onto the storage taxonomy with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	}

	return New(fmt.Errorf("%w: %w", ErrStorageUnavailable, err), http.StatusBadGateway, RedisErrorMessage)
}
