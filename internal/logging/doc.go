// Package logging provides structured logging for RepoRadar.
//
// Logger wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout output plus optional OpenTelemetry log export
//   - automatic context fields (trace_id, request.id, run.id, repo)
//   - redaction of GitHub tokens and API keys
//   - level-aware sampling (errors are never sampled)
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithRepo(ctx, "octocat/hello-world")
//	logger.Info(ctx, "repository indexed", zap.Int64("repo_id", id))
//
// Tests use NewTestLogger, which records entries in memory:
//
//	logger := logging.NewTestLogger()
//	// ... exercise code ...
//	logger.AssertLogged(t, zapcore.WarnLevel, "skipping invalid name")
package logging
