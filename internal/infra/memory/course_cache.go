package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"coop-quiz-service/internal/app"
	"coop-quiz-service/internal/domain"
)

// CourseCache caches courses with TTL to avoid repeated bank hits.
type CourseCache struct {
	loader app.CourseLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedCourse
}

type cachedCourse struct {
	course    domain.Course
	expiresAt time.Time
}

func NewCourseCache(loader app.CourseLoader, ttl time.Duration) *CourseCache {
	return &CourseCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		cache:  make(map[string]cachedCourse),
	}
}

func (c *CourseCache) LoadCourse(ctx context.Context, courseID string) (domain.Course, error) {
	if course, ok := c.lookup(courseID, c.clock()); ok {
		return course, nil
	}

	result, err, _ := c.sf.Do(courseID, func() (interface{}, error) {
		now := c.clock()
		if course, ok := c.lookup(courseID, now); ok {
			return course, nil
		}

		course, err := c.loader.LoadCourse(ctx, courseID)
		if err != nil {
			return domain.Course{}, err
		}

		c.mu.Lock()
		c.cache[courseID] = cachedCourse{course: course, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return course, nil
	})
	if err != nil {
		return domain.Course{}, err
	}
	return result.(domain.Course), nil
}

// Invalidate drops a cached course so the next load hits the backing loader.
func (c *CourseCache) Invalidate(courseID string) {
	c.mu.Lock()
	delete(c.cache, courseID)
	c.mu.Unlock()
}

func (c *CourseCache) lookup(courseID string, now time.Time) (domain.Course, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[courseID]
	if !ok || !entry.expiresAt.After(now) {
		return domain.Course{}, false
	}
	return entry.course, true
}

func (c *CourseCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}

// StaticCourseLoader serves courses from an in-memory map (seed files, tests, demos).
type StaticCourseLoader struct {
	courses map[string]domain.Course
}

func NewStaticCourseLoader(courses ...domain.Course) *StaticCourseLoader {
	byID := make(map[string]domain.Course, len(courses))
	for _, c := range courses {
		byID[c.ID] = c
	}
	return &StaticCourseLoader{courses: byID}
}

func (l *StaticCourseLoader) LoadCourse(_ context.Context, courseID string) (domain.Course, error) {
	if course, ok := l.courses[courseID]; ok {
		return course, nil
	}
	return domain.Course{}, fmt.Errorf("course %q: %w", courseID, domain.ErrCourseNotFound)
}
