// Package process supervises device host processes.
//
// Each Manager owns one child process: it starts it, streams its output into
// the log, restarts it with exponential backoff when it dies, and stops it
// with SIGTERM followed by SIGKILL.
//
//	mgr := process.NewManager(process.Config{
//	    Name:               "sample_host",
//	    Binary:             "/usr/bin/devhost",
//	    Args:               []string{"--host-id", "1", "--host-name", "sample_host"},
//	    RestartOnFailure:   true,
//	    MaxRestartAttempts: 10,
//	    OnStart:            func(pid int) { ... },
//	    OnStop:             func(err error) { ... },
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
//
// An exit code listed in Config.FatalExitCodes is treated as unrecoverable
// and ends supervision without a restart.
package process
