package handlers

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/database"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/utils"
)

// AgentAuth resolves a websocket handshake to a registered printer. The
// agent presents the merchant's JWT and its own device id; both must match
// a registration.
type AgentAuth struct {
	db        *database.DB
	jwtSecret string
}

func NewAgentAuth(db *database.DB, jwtSecret string) *AgentAuth {
	return &AgentAuth{db: db, jwtSecret: jwtSecret}
}

// IdentifyAgent validates the token and looks up the printer registration
func (a *AgentAuth) IdentifyAgent(ctx context.Context, token, deviceID string) (*models.Printer, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	claims, err := utils.ValidateToken(token, a.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	userID, ok := claims["id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("token has no user id")
	}

	var printer models.Printer
	err = a.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		First(&printer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("device %s is not registered", deviceID)
	}
	if err != nil {
		return nil, err
	}
	return &printer, nil
}
