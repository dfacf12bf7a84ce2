// Package scheduler runs recurring announcements from config-defined cron
// specs. It is a thin layer over robfig/cron; the announcement service does
// the actual delivery.
package scheduler
