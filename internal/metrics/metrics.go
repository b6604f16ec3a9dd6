package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var InvitationsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guidedq_invitations_created_total",
	Help: "The total number of invitations created",
})

var InvitationsSent = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guidedq_invitations_sent_total",
	Help: "The total number of invitations handed to the mail dispatcher",
})

var InvitationsSendFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guidedq_invitations_send_failed_total",
	Help: "The total number of invitation dispatch failures",
})

var InvitationsAccepted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guidedq_invitations_accepted_total",
	Help: "The total number of invitations accepted for the first time",
})

// InvitationsRejected counts acceptance attempts that did not complete, by reason
var InvitationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guidedq_invitations_rejected_total",
	Help: "The total number of invitation acceptance attempts that did not complete",
}, []string{"reason"})

var InvitationsRevoked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guidedq_invitations_revoked_total",
	Help: "The total number of invitations revoked",
})

var InvitationsPurged = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guidedq_invitations_purged_total",
	Help: "The total number of stale invitations deleted by maintenance",
})

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
