// Package services defines the error taxonomy shared by the upload, job, and
// engine subsystems, plus context annotation helpers for correlation fields.
package services
