package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-quiz-service/internal/app"
	"coop-quiz-service/internal/domain"
	"coop-quiz-service/internal/infra/memory"
)

func TestCourseCacheCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{CourseLoader: memory.NewStaticCourseLoader(sampleCourse())}
	cache := NewCourseCache(newClient(mr), loader, time.Minute, nil)

	course, err := cache.LoadCourse(context.Background(), "course-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load())
	assert.True(t, mr.Exists("quiz:course:course-1"))

	// second call should hit redis
	cached, err := cache.LoadCourse(context.Background(), "course-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load())
	assert.Equal(t, course, cached)

	ttl := mr.TTL("quiz:course:course-1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+6*time.Second)
}

func TestCourseCacheRecoversFromCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("quiz:course:course-1", "{not json"))
	loader := &countingLoader{CourseLoader: memory.NewStaticCourseLoader(sampleCourse())}
	cache := NewCourseCache(newClient(mr), loader, 0, nil)

	course, err := cache.LoadCourse(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, "Arithmetic", course.Name)
	assert.EqualValues(t, 1, loader.calls.Load())

	require.NoError(t, cache.Invalidate(context.Background(), "course-1"))
	assert.False(t, mr.Exists("quiz:course:course-1"))
}

func TestCourseCachePropagatesLoaderErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewCourseCache(newClient(mr), memory.NewStaticCourseLoader(), time.Minute, nil)

	_, err := cache.LoadCourse(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCourseNotFound)
	assert.False(t, mr.Exists("quiz:course:missing"))
}

type countingLoader struct {
	app.CourseLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadCourse(ctx context.Context, courseID string) (domain.Course, error) {
	l.calls.Add(1)
	return l.CourseLoader.LoadCourse(ctx, courseID)
}

func sampleCourse() domain.Course {
	return domain.Course{
		ID:   "course-1",
		Name: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Text:   "What is 2 + 2?",
				Status: domain.QuestionApproved,
				Answers: []domain.Answer{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
		},
	}
}
