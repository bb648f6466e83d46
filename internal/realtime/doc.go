// Package realtime coordinates streaming transcription: it reads audio from a
// capture device into bounded slices, gates inference on duration and voice
// activity, runs at most one engine call per session at a time and reports
// results as events.
//
// A Registry owns Sessions, one per loaded model. A Session runs one job at a
// time, either a streaming job started with Start or a synchronous OneShot.
// Stop and Release join every goroutine of the job before returning, and a
// handle is freed only after its session is quiet.
package realtime
