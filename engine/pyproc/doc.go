// Package pyproc hosts the collaborator in a CPython child process.
//
// The engine launches python3 with an embedded bootstrap script and talks
// to it over stdin and a private duplicate of stdout, one JSON object per
// line. The child never inherits the parent's environment: it gets
// PYTHONHOME (when a home is configured), PYTHONNOUSERSITE,
// PYTHONDONTWRITEBYTECODE and PYTHONIOENCODING only. Search path entries
// are appended to sys.path. Collaborator stdout, stderr and tracebacks go
// to the diagnostics writer.
//
// Canceling a call's context kills the child; the engine must be restarted
// afterwards.
package pyproc
