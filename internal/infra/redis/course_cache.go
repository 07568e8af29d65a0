package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"coop-quiz-service/internal/app"
	"coop-quiz-service/internal/domain"
)

// CourseCache keeps whole courses as JSON strings in Redis so every instance
// shares one copy, falling back to the loader on a miss.
//
//	SET quiz:course:{courseID} {json} PX ttl
type CourseCache struct {
	client redis.UniversalClient
	loader app.CourseLoader
	ttl    time.Duration
	sf     singleflight.Group
	log    *zap.Logger
}

func NewCourseCache(client redis.UniversalClient, loader app.CourseLoader, ttl time.Duration, log *zap.Logger) *CourseCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &CourseCache{client: client, loader: loader, ttl: ttl, log: log}
}

func (c *CourseCache) LoadCourse(ctx context.Context, courseID string) (domain.Course, error) {
	if course, ok := c.cached(ctx, courseID); ok {
		return course, nil
	}

	result, err, _ := c.sf.Do(courseID, func() (interface{}, error) {
		// another caller may have filled it meanwhile
		if course, ok := c.cached(ctx, courseID); ok {
			return course, nil
		}

		course, err := c.loader.LoadCourse(ctx, courseID)
		if err != nil {
			return domain.Course{}, err
		}

		payload, err := json.Marshal(course)
		if err != nil {
			return domain.Course{}, err
		}
		if err := c.client.Set(ctx, c.key(courseID), payload, c.ttlWithJitter()).Err(); err != nil {
			c.log.Warn("course cache write failed", zap.String("course_id", courseID), zap.Error(err))
		}
		return course, nil
	})
	if err != nil {
		return domain.Course{}, err
	}
	return result.(domain.Course), nil
}

// Invalidate removes a cached course.
func (c *CourseCache) Invalidate(ctx context.Context, courseID string) error {
	return c.client.Del(ctx, c.key(courseID)).Err()
}

func (c *CourseCache) cached(ctx context.Context, courseID string) (domain.Course, bool) {
	raw, err := c.client.Get(ctx, c.key(courseID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("course cache read failed", zap.String("course_id", courseID), zap.Error(err))
		}
		return domain.Course{}, false
	}
	var course domain.Course
	if err := json.Unmarshal(raw, &course); err != nil {
		c.log.Warn("dropping corrupt cached course", zap.String("course_id", courseID), zap.Error(err))
		return domain.Course{}, false
	}
	return course, true
}

func (c *CourseCache) key(courseID string) string {
	return "quiz:course:" + courseID
}

func (c *CourseCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
