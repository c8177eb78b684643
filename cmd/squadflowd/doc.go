// Command squadflowd runs the SquadFlow routing engine as a daemon: it opens
// the database, starts the deadline sweeper on its schedule, and serves
// Prometheus metrics.
package main
