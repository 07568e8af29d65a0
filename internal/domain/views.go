package domain

// ViewKind tags which variant of View is populated.
type ViewKind string

const (
	ViewLobby    ViewKind = "lobby"
	ViewQuestion ViewKind = "question"
	ViewResult   ViewKind = "result"
	ViewResults  ViewKind = "results"
)

// View is what a polling participant receives. Exactly one of the variant
// pointers is set, matching Kind.
type View struct {
	Kind      ViewKind      `json:"kind"`
	SessionID string        `json:"sessionId"`
	JoinCode  string        `json:"joinCode"`
	Status    SessionStatus `json:"status"`
	Lobby     *LobbyView    `json:"lobby,omitempty"`
	Question  *QuestionView `json:"question,omitempty"`
	Result    *ResultView   `json:"result,omitempty"`
	Results   *ResultsView  `json:"results,omitempty"`
}

// ParticipantView is a participant as shown to other players.
type ParticipantView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	IsHost      bool   `json:"isHost"`
}

// LobbyView lists who is waiting and who may start the game.
type LobbyView struct {
	Participants []ParticipantView `json:"participants"`
	HostID       string            `json:"hostId"`
	ViewerIsHost bool              `json:"viewerIsHost"`
}

// Progress locates the current question within the frozen list.
type Progress struct {
	Position int `json:"position"`
	Total    int `json:"total"`
}

// OptionView is an answer option without its correctness flag.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is shown while the current question is unanswered.
type QuestionView struct {
	QuestionID string       `json:"questionId"`
	Text       string       `json:"text"`
	Options    []OptionView `json:"options"`
	Progress   Progress     `json:"progress"`
}

// ResultView is shown once the team answer for the current question exists.
type ResultView struct {
	QuestionID         string       `json:"questionId"`
	Text               string       `json:"text"`
	Explanation        string       `json:"explanation,omitempty"`
	Options            []OptionView `json:"options"`
	SelectedAnswerID   string       `json:"selectedAnswerId"`
	SelectedAnswerText string       `json:"selectedAnswerText"`
	CorrectAnswerID    string       `json:"correctAnswerId"`
	Correct            bool         `json:"correct"`
	AnsweredBy         string       `json:"answeredBy"`
	AnsweredByName     string       `json:"answeredByName"`
	Progress           Progress     `json:"progress"`
}

// RankedParticipant is one row of the final scoreboard.
type RankedParticipant struct {
	Rank int `json:"rank"`
	ParticipantView
}

// ResultsView is the final scoreboard of a finished session.
type ResultsView struct {
	Ranking        []RankedParticipant `json:"ranking"`
	TotalQuestions int                 `json:"totalQuestions"`
}

// SessionSummary is a compact listing entry.
type SessionSummary struct {
	ID           string        `json:"id"`
	JoinCode     string        `json:"joinCode"`
	CourseID     string        `json:"courseId,omitempty"`
	Status       SessionStatus `json:"status"`
	Participants int           `json:"participants"`
}
