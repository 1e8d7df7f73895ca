// Package health aggregates on-demand checks into a healthy, degraded or
// unhealthy report. A failing critical check makes the system unhealthy;
// any other failing check only degrades it.
package health
