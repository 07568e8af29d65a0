package app

import (
	"fmt"
	"sort"

	"coop-quiz-service/internal/domain"
)

// Snapshot is the stored state a poll is answered from.
// Current and Answer are only consulted for ACTIVE sessions.
type Snapshot struct {
	Session      domain.GameSession
	Participants []domain.Participant
	Current      *domain.Question
	Answer       *domain.TeamAnswer
	ViewerID     string
}

// Project derives the view handed to a polling participant. It has no side
// effects, so polling frequency never influences game state.
func Project(s Snapshot) (domain.View, error) {
	view := domain.View{
		SessionID: s.Session.ID,
		JoinCode:  s.Session.JoinCode,
		Status:    s.Session.Status,
	}

	switch s.Session.Status {
	case domain.StatusLobby:
		view.Kind = domain.ViewLobby
		view.Lobby = projectLobby(s.Participants, s.ViewerID)
	case domain.StatusFinished:
		view.Kind = domain.ViewResults
		view.Results = &domain.ResultsView{
			Ranking:        rank(s.Participants),
			TotalQuestions: len(s.Session.QuestionIDs),
		}
	case domain.StatusActive:
		if s.Current == nil || s.Current.ID != s.Session.CurrentQuestionID {
			return domain.View{}, domain.InvariantViolation(
				fmt.Sprintf("active session %s has no loadable current question", s.Session.ID), nil)
		}
		pos, ok := s.Session.Position(s.Current.ID)
		if !ok {
			return domain.View{}, domain.InvariantViolation(
				fmt.Sprintf("current question %s is not part of session %s", s.Current.ID, s.Session.ID), nil)
		}
		progress := domain.Progress{Position: pos, Total: len(s.Session.QuestionIDs)}

		if s.Answer != nil {
			view.Kind = domain.ViewResult
			view.Result = projectResult(*s.Current, *s.Answer, progress)
		} else {
			view.Kind = domain.ViewQuestion
			view.Question = &domain.QuestionView{
				QuestionID: s.Current.ID,
				Text:       s.Current.Text,
				Options:    options(*s.Current),
				Progress:   progress,
			}
		}
	default:
		return domain.View{}, domain.InvariantViolation(
			fmt.Sprintf("session %s has unknown status %q", s.Session.ID, s.Session.Status), nil)
	}
	return view, nil
}

func projectLobby(participants []domain.Participant, viewerID string) *domain.LobbyView {
	lobby := &domain.LobbyView{Participants: make([]domain.ParticipantView, 0, len(participants))}
	host := hostOf(participants)
	if host != nil {
		lobby.HostID = host.UserID
		lobby.ViewerIsHost = host.UserID == viewerID
	}
	for _, p := range participants {
		lobby.Participants = append(lobby.Participants, participantView(p, host))
	}
	return lobby
}

func projectResult(q domain.Question, rec domain.TeamAnswer, progress domain.Progress) *domain.ResultView {
	result := &domain.ResultView{
		QuestionID:       q.ID,
		Text:             q.Text,
		Explanation:      q.Explanation,
		Options:          options(q),
		SelectedAnswerID: rec.AnswerID,
		Correct:          rec.Correct,
		AnsweredBy:       rec.AnsweredBy,
		AnsweredByName:   rec.AnsweredByName,
		Progress:         progress,
	}
	if selected, ok := q.Answer(rec.AnswerID); ok {
		result.SelectedAnswerText = selected.Text
	}
	if correct, ok := q.CorrectAnswer(); ok {
		result.CorrectAnswerID = correct.ID
	}
	if result.AnsweredByName == "" {
		result.AnsweredByName = "someone"
	}
	return result
}

func options(q domain.Question) []domain.OptionView {
	opts := make([]domain.OptionView, len(q.Answers))
	for i, a := range q.Answers {
		opts[i] = domain.OptionView{ID: a.ID, Text: a.Text}
	}
	return opts
}

// rank orders by score descending, ties by join order.
func rank(participants []domain.Participant) []domain.RankedParticipant {
	ordered := make([]domain.Participant, len(participants))
	copy(ordered, participants)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	host := hostOf(participants)
	ranking := make([]domain.RankedParticipant, len(ordered))
	for i, p := range ordered {
		ranking[i] = domain.RankedParticipant{Rank: i + 1, ParticipantView: participantView(p, host)}
	}
	return ranking
}

// hostOf returns the participant who joined first.
func hostOf(participants []domain.Participant) *domain.Participant {
	var host *domain.Participant
	for i := range participants {
		if host == nil || participants[i].Seq < host.Seq {
			host = &participants[i]
		}
	}
	return host
}

func participantView(p domain.Participant, host *domain.Participant) domain.ParticipantView {
	return domain.ParticipantView{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Score:       p.Score,
		IsHost:      host != nil && host.UserID == p.UserID,
	}
}
