package remote

import "context"

// fakeRunner is the test double for Runner, following the teacher's
// fake_runner_test.go convention in internal/git and internal/worker.
type fakeRunner struct {
	sshResponses map[string]string
	sshErr       error
	scpErr       error
	// scpHook simulates the remote files a real scp -r would have placed
	// in the destination directory (the last arg), so DownloadResults'
	// post-transfer enumeration has something to walk.
	scpHook func(destDir string) error
}

func (f *fakeRunner) SSH(ctx context.Context, host, user, keyPath string, remoteCmd string) (string, error) {
	if f.sshErr != nil {
		return "", f.sshErr
	}
	return f.sshResponses[remoteCmd], nil
}

func (f *fakeRunner) SCP(ctx context.Context, host, user, keyPath string, args ...string) (string, error) {
	if f.scpErr != nil {
		return "", f.scpErr
	}
	if f.scpHook != nil {
		destDir := args[len(args)-1]
		if err := f.scpHook(destDir); err != nil {
			return "", err
		}
	}
	return "", nil
}
