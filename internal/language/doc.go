// Package language normalizes user-supplied language codes into the ISO 639-1
// form the transcription engine expects, and renders display names for job views.
package language
