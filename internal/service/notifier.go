package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/models"
)

// Notifier is told about new accounts and new sessions so it can fan out
// welcome and sign-in messages.
type Notifier interface {
	UserCreated(ctx context.Context, user *models.User)
	SessionStarted(ctx context.Context, user *models.User, session *models.Session)
}

// LogNotifier only logs the events.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) UserCreated(_ context.Context, user *models.User) {
	n.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User created")
}

func (n *LogNotifier) SessionStarted(_ context.Context, user *models.User, session *models.Session) {
	n.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"session_id": session.ID,
		"ip":         session.IPAddress,
	}).Info("Session started")
}
