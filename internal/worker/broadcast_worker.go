package worker

import (
	"github.com/spec-kit/callbridge/internal/service"
)

// StartBroadcastWorker registers display broadcast handlers.
func StartBroadcastWorker(broadcastService *service.BroadcastService) {
	if broadcastService == nil {
		return
	}
	broadcastService.RegisterHandlers()
}
