package services

import (
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr"

	"github.com/shieldops/bastion/internal/logger"
	"github.com/shieldops/bastion/internal/metrics"
)

// AlertService fans operational alerts out to configured shoutrrr provider
// URLs. Sends are fire-and-forget: alerting must never block or fail an
// engine path.
type AlertService struct {
	urls []string
}

// NewAlertService returns an AlertService for the given shoutrrr URLs. An
// empty list is valid; alerts are then only logged.
func NewAlertService(urls []string) *AlertService {
	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return &AlertService{urls: clean}
}

// Notify sends an operational alert to every configured provider.
func (s *AlertService) Notify(title, message string) {
	logger.WithFields(map[string]interface{}{"alert": title}).Warn(message)
	for _, url := range s.urls {
		go func(u string) {
			if err := shoutrrr.Send(u, fmt.Sprintf("%s\n\n%s", title, message)); err != nil {
				logger.Log().WithError(err).Error("failed to send operational alert")
			}
		}(url)
	}
}

// ConsistencyRisk reports a privileged mutation whose audit write failed.
// The mutation has already taken effect but left no trail, so this is kept
// distinct from an ordinary storage alert.
func (s *AlertService) ConsistencyRisk(action, detail string) {
	metrics.IncUnauditedChange()
	s.Notify("UNAUDITED PRIVILEGED CHANGE: "+action, detail)
}
