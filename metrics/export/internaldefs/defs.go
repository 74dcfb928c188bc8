package internaldefs

import (
	"strconv"

	"github.com/travelmate/authgate"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "authgate_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Completed logins."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Logins rejected for a bad credential or second factor."},
	{ID: authgate.MetricLoginTooManyAttempts, Name: "authgate_login_too_many_attempts_total", Help: "Logins refused by the attempt guard."},
	{ID: authgate.MetricLoginLocked, Name: "authgate_login_locked_total", Help: "Logins refused because the account is locked."},
	{ID: authgate.MetricLoginSecondFactorRequired, Name: "authgate_login_second_factor_required_total", Help: "Logins that stopped to ask for a one-time code."},
	{ID: authgate.MetricAnomalousOrigin, Name: "authgate_anomalous_origin_total", Help: "Logins from an origin not seen recently."},
	{ID: authgate.MetricRefreshSuccess, Name: "authgate_refresh_success_total", Help: "Access tokens minted from a refresh token."},
	{ID: authgate.MetricRefreshFailure, Name: "authgate_refresh_failure_total", Help: "Refresh attempts with an invalid session."},
	{ID: authgate.MetricSessionCreated, Name: "authgate_session_created_total", Help: "Sessions issued."},
	{ID: authgate.MetricSessionEvicted, Name: "authgate_session_evicted_total", Help: "Sessions revoked to stay under the device cap."},
	{ID: authgate.MetricSessionRevoked, Name: "authgate_session_revoked_total", Help: "Sessions revoked by logout."},
	{ID: authgate.MetricRateLimitHit, Name: "authgate_rate_limit_hit_total", Help: "Requests denied by a quota scope."},
	{ID: authgate.MetricAccessValid, Name: "authgate_access_valid_total", Help: "Requests carrying a valid access token."},
	{ID: authgate.MetricAccessExpired, Name: "authgate_access_expired_total", Help: "Requests carrying an expired access token."},
	{ID: authgate.MetricAccessMalformed, Name: "authgate_access_malformed_total", Help: "Requests carrying an unusable access token."},
	{ID: authgate.MetricNotificationFailed, Name: "authgate_notification_failed_total", Help: "Anomaly alerts the notifier could not deliver."},
	{ID: authgate.MetricMaintenanceRun, Name: "authgate_maintenance_run_total", Help: "Completed maintenance sweeps."},
}

var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricLoginLatency, Name: "authgate_login_latency_seconds", Help: "Login latency."},
}

// BucketCount is the number of histogram buckets, the last one unbounded.
var BucketCount = len(authgate.HistogramBounds()) + 1

// HistogramBounds returns the "le" label of every bucket in seconds, ending
// with "+Inf".
func HistogramBounds() []string {
	bounds := authgate.HistogramBounds()
	out := make([]string, 0, len(bounds)+1)
	for _, b := range bounds {
		out = append(out, strconv.FormatFloat(b.Seconds(), 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// CumulativeBuckets turns per-bucket counts into the running totals both
// exposition formats expect. The result always has BucketCount entries.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, BucketCount)
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
