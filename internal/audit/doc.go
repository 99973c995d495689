// Package audit defines the data model and collaborator contracts shared by the
// link audit engine: bookmark trees, work items, task outcomes, progress
// snapshots and the final report.
package audit
