package domain

import "time"

// QuestionStatus is the moderation state of a question in the bank.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "PENDING"
	QuestionApproved QuestionStatus = "APPROVED"
	QuestionRejected QuestionStatus = "REJECTED"
)

// SessionStatus is the lifecycle state of a game session.
// The only legal order is LOBBY -> ACTIVE -> FINISHED.
type SessionStatus string

const (
	StatusLobby    SessionStatus = "LOBBY"
	StatusActive   SessionStatus = "ACTIVE"
	StatusFinished SessionStatus = "FINISHED"
)

// CanTransitionTo reports whether next directly follows s in the lifecycle.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusLobby:
		return next == StatusActive
	case StatusActive:
		return next == StatusFinished
	default:
		return false
	}
}

// GameMode selects the scoring rules of a session. Only cooperative play exists.
type GameMode string

const ModeCoop GameMode = "COOP"

// User is the opaque identity resolved per request by the identity provider.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Course groups questions.
type Course struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions,omitempty"`
}

// Answer is one option of a question.
type Answer struct {
	ID         string `json:"id"`
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
	Correct    bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct answer.
type Question struct {
	ID          string         `json:"id"`
	CourseID    string         `json:"courseId,omitempty"`
	Text        string         `json:"text"`
	Explanation string         `json:"explanation,omitempty"`
	Status      QuestionStatus `json:"status"`
	Answers     []Answer       `json:"answers"`
}

// Answer looks up one of the question's answers by id.
func (q Question) Answer(id string) (Answer, bool) {
	for _, a := range q.Answers {
		if a.ID == id {
			return a, true
		}
	}
	return Answer{}, false
}

// CorrectAnswer returns the answer flagged correct.
func (q Question) CorrectAnswer() (Answer, bool) {
	for _, a := range q.Answers {
		if a.Correct {
			return a, true
		}
	}
	return Answer{}, false
}

// GameSession is a lobby or running game. QuestionIDs is frozen at creation.
type GameSession struct {
	ID                string        `json:"id"`
	JoinCode          string        `json:"joinCode"`
	CourseID          string        `json:"courseId,omitempty"`
	Mode              GameMode      `json:"mode"`
	Status            SessionStatus `json:"status"`
	QuestionIDs       []string      `json:"questionIds"`
	CurrentQuestionID string        `json:"currentQuestionId,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// Position returns the 1-indexed position of questionID in the frozen list.
func (s GameSession) Position(questionID string) (int, bool) {
	for i, id := range s.QuestionIDs {
		if id == questionID {
			return i + 1, true
		}
	}
	return 0, false
}

// HasQuestion reports whether questionID belongs to the session.
func (s GameSession) HasQuestion(questionID string) bool {
	_, ok := s.Position(questionID)
	return ok
}

// NewSession carries everything a store needs to persist a fresh lobby.
// Creator is admitted as the first participant and is therefore the host.
type NewSession struct {
	ID        string
	JoinCode  string
	CourseID  string
	Mode      GameMode
	Questions []Question
	Creator   User
	CreatedAt time.Time
}

// QuestionIDs returns the ids of the frozen questions in order.
func (n NewSession) QuestionIDs() []string {
	ids := make([]string, len(n.Questions))
	for i, q := range n.Questions {
		ids[i] = q.ID
	}
	return ids
}

// Participant links a user to a session. Seq is the 1-based join order.
type Participant struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Seq         int       `json:"seq"`
	Score       int       `json:"score"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// TeamAnswer is the single answer that counts for a question in a session.
// Correct is copied from the answer at submission time.
type TeamAnswer struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	QuestionID     string    `json:"questionId"`
	AnswerID       string    `json:"answerId"`
	AnsweredBy     string    `json:"answeredBy"`
	AnsweredByName string    `json:"answeredByName"`
	Correct        bool      `json:"correct"`
	CreatedAt      time.Time `json:"createdAt"`
}
