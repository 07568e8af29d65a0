package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"coop-quiz-service/internal/domain"
)

// Seed is the on-disk format of a question bank seed file.
type Seed struct {
	Courses []SeedCourse `yaml:"courses"`
}

type SeedCourse struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Questions []SeedQuestion `yaml:"questions"`
}

type SeedQuestion struct {
	ID          string       `yaml:"id"`
	Text        string       `yaml:"text"`
	Explanation string       `yaml:"explanation"`
	Status      string       `yaml:"status"`
	Answers     []SeedAnswer `yaml:"answers"`
}

type SeedAnswer struct {
	ID      string `yaml:"id"`
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// LoadSeed reads a seed file and converts it to domain courses.
func LoadSeed(path string) ([]domain.Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML. Missing answer ids become "<question>-<n>" and
// a missing status means APPROVED.
func ParseSeed(data []byte) ([]domain.Course, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	courses := make([]domain.Course, 0, len(seed.Courses))
	for _, sc := range seed.Courses {
		if sc.ID == "" {
			return nil, fmt.Errorf("seed course %q: missing id", sc.Name)
		}
		course := domain.Course{ID: sc.ID, Name: sc.Name}
		for _, sq := range sc.Questions {
			if sq.ID == "" {
				return nil, fmt.Errorf("seed course %s: question without id", sc.ID)
			}
			status := domain.QuestionStatus(strings.ToUpper(sq.Status))
			switch status {
			case "":
				status = domain.QuestionApproved
			case domain.QuestionApproved, domain.QuestionPending, domain.QuestionRejected:
			default:
				return nil, fmt.Errorf("seed question %s: unknown status %q", sq.ID, sq.Status)
			}
			q := domain.Question{
				ID:          sq.ID,
				CourseID:    sc.ID,
				Text:        sq.Text,
				Explanation: sq.Explanation,
				Status:      status,
			}
			for i, sa := range sq.Answers {
				id := sa.ID
				if id == "" {
					id = sq.ID + "-" + strconv.Itoa(i+1)
				}
				q.Answers = append(q.Answers, domain.Answer{ID: id, QuestionID: sq.ID, Text: sa.Text, Correct: sa.Correct})
			}
			course.Questions = append(course.Questions, q)
		}
		courses = append(courses, course)
	}
	return courses, nil
}
