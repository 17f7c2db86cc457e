// Package api exposes the battle royale operations over HTTP and turns
// domain events into redis pub/sub notifications for the presentation layer.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/errors"
	"github.com/quizroyale/backend/internal/event"
	"github.com/quizroyale/backend/internal/leaderboard"
	"github.com/quizroyale/backend/internal/round"
	"github.com/quizroyale/backend/internal/score"
	"github.com/quizroyale/backend/internal/session"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Session      *session.Service
	Score        *score.Service
	Round        *round.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type API struct {
	session     *session.Service
	score       *score.Service
	round       *round.Service
	leaderboard *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		session:     c.Session,
		score:       c.Score,
		round:       c.Round,
		leaderboard: c.Leaderboard,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
	}

	a.registerRoutes(c.Router)
	a.registerNotifications(c.EventBus)

	return a
}

func (a *API) registerRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.POST("/quizzes/:quiz/questions", a.createQuestion)

	v1.POST("/sessions", a.createSession)
	v1.GET("/sessions/:session", a.getSession)
	v1.POST("/sessions/:session/start", a.startSession)
	v1.POST("/sessions/:session/join", a.joinSession)
	v1.POST("/sessions/:session/answers", a.submitAnswer)
	v1.POST("/sessions/:session/rounds", a.processRound)
	v1.GET("/sessions/:session/leaderboard", a.getLeaderboard)
	v1.GET("/sessions/:session/participants/:participant", a.getParticipant)
	v1.GET("/sessions/:session/participants/:participant/rank", a.getRank)
	v1.POST("/sessions/:session/participants/:participant/heartbeat", a.heartbeat)
	v1.POST("/sessions/:session/participants/:participant/powerups/:type/use", a.usePowerUp)
}

type sessionResponse struct {
	SessionID           string `json:"session_id"`
	QuizID              string `json:"quiz_id"`
	Status              string `json:"status"`
	CurrentRound        int    `json:"current_round"`
	EliminationInterval int    `json:"elimination_interval_seconds"`
	WinnerID            string `json:"winner_id,omitempty"`
}

func toSessionResponse(ss *domain.Session) sessionResponse {
	return sessionResponse{
		SessionID:           ss.SessionID,
		QuizID:              ss.QuizID,
		Status:              string(ss.Status),
		CurrentRound:        ss.CurrentRound,
		EliminationInterval: int(ss.EliminationInterval.Seconds()),
		WinnerID:            ss.WinnerID,
	}
}

func (a *API) createSession(c *gin.Context) {
	var req struct {
		QuizID              string `json:"quiz_id"`
		EliminationInterval int    `json:"elimination_interval_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, err := a.session.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		QuizID:              req.QuizID,
		EliminationInterval: time.Duration(req.EliminationInterval) * time.Second,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(ss))
}

func (a *API) getSession(c *gin.Context) {
	ss, err := a.session.GetSession(c.Request.Context(), session.GetSessionRequest{
		SessionID: c.Param("session"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(ss))
}

func (a *API) startSession(c *gin.Context) {
	ss, err := a.session.StartSession(c.Request.Context(), session.StartSessionRequest{
		SessionID: c.Param("session"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(ss))
}

func (a *API) joinSession(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name"`
		Avatar      string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.session.JoinSession(c.Request.Context(), session.JoinSessionRequest{
		SessionID:   c.Param("session"),
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"participant_id": p.ParticipantID,
		"session_id":     p.SessionID,
		"display_name":   p.DisplayName,
		"health":         p.Health,
	})
}

func (a *API) submitAnswer(c *gin.Context) {
	var req struct {
		ParticipantID  string   `json:"participant_id"`
		QuestionID     string   `json:"question_id"`
		OptionIDs      []string `json:"option_ids"`
		ResponseTimeMS int64    `json:"response_time_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.score.SubmitAnswer(c.Request.Context(), score.SubmitAnswerRequest{
		SessionID:     c.Param("session"),
		ParticipantID: req.ParticipantID,
		QuestionID:    req.QuestionID,
		OptionIDs:     req.OptionIDs,
		ResponseTime:  time.Duration(req.ResponseTimeMS) * time.Millisecond,
		SubmitTime:    time.Now(),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"points":           resp.Points,
		"total_score":      resp.TotalScore,
		"correct":          resp.Correct,
		"streak":           resp.Streak,
		"health":           resp.Health,
		"granted_power_up": resp.GrantedPowerUp,
	})
}

func (a *API) processRound(c *gin.Context) {
	res, err := a.round.ProcessRound(c.Request.Context(), round.ProcessRoundRequest{
		SessionID: c.Param("session"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": res.SessionID,
		"round":      res.Round,
		"next_round": res.NextRound,
		"eliminated": res.Eliminated,
		"remaining":  res.Remaining,
		"game_over":  res.GameOver,
		"winner_id":  res.WinnerID,
	})
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("session"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (a *API) createQuestion(c *gin.Context) {
	var req struct {
		QuestionText     string `json:"question_text"`
		TimeLimitSeconds int    `json:"time_limit_seconds"`
		Options          []struct {
			OptionText string `json:"option_text"`
			Correct    bool   `json:"correct"`
		} `json:"options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	in := score.CreateQuestionRequest{
		QuizID:       c.Param("quiz"),
		QuestionText: req.QuestionText,
		TimeLimit:    time.Duration(req.TimeLimitSeconds) * time.Second,
	}
	for _, o := range req.Options {
		in.Options = append(in.Options, score.CreateQuestionOption{
			OptionText: o.OptionText,
			Correct:    o.Correct,
		})
	}

	q, err := a.score.CreateQuestion(c.Request.Context(), in)
	if err != nil {
		abortWithError(c, err)
		return
	}

	options := make([]gin.H, 0, len(q.Options))
	for _, o := range q.Options {
		options = append(options, gin.H{
			"option_id":   o.OptionID,
			"option_text": o.OptionText,
			"correct":     o.Correct,
		})
	}
	c.JSON(http.StatusCreated, gin.H{
		"question_id":        q.QuestionID,
		"quiz_id":            q.QuizID,
		"question_text":      q.QuestionText,
		"time_limit_seconds": int(q.TimeLimit.Seconds()),
		"options":            options,
	})
}

func (a *API) getParticipant(c *gin.Context) {
	p, err := a.session.GetParticipant(c.Request.Context(), session.GetParticipantRequest{
		SessionID:     c.Param("session"),
		ParticipantID: c.Param("participant"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participant_id": p.ParticipantID,
		"session_id":     p.SessionID,
		"display_name":   p.DisplayName,
		"avatar":         p.Avatar,
		"score":          p.Score,
		"health":         p.Health,
		"streak":         p.Streak,
		"eliminated":     p.Eliminated,
		"online":         p.Online,
		"power_ups": gin.H{
			"double_points": p.PowerUps.DoublePoints,
			"shield":        p.PowerUps.Shield,
			"time_freeze":   p.PowerUps.TimeFreeze,
			"health_boost":  p.PowerUps.HealthBoost,
		},
	})
}

func (a *API) getRank(c *gin.Context) {
	r, err := a.leaderboard.GetRank(c.Request.Context(), leaderboard.GetRankRequest{
		SessionID:     c.Param("session"),
		ParticipantID: c.Param("participant"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rank":  r.Rank,
		"score": r.Score,
	})
}

func (a *API) heartbeat(c *gin.Context) {
	err := a.session.Heartbeat(c.Request.Context(), session.HeartbeatRequest{
		SessionID:     c.Param("session"),
		ParticipantID: c.Param("participant"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) usePowerUp(c *gin.Context) {
	resp, err := a.session.UsePowerUp(c.Request.Context(), session.UsePowerUpRequest{
		SessionID:     c.Param("session"),
		ParticipantID: c.Param("participant"),
		PowerUp:       domain.PowerUp(c.Param("type")),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"power_up":  resp.PowerUp,
		"remaining": resp.Remaining,
		"health":    resp.Health,
	})
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code,
		"message": e.Message,
	})
}
