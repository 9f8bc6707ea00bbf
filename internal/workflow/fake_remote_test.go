package workflow

import (
	"context"

	"github.com/radonc/mqsupervisor/internal/remote"
)

// fakeRemote is the test double for RemoteExecutor, following the
// fakeRunner convention established in internal/remote's own tests.
type fakeRemote struct {
	ensureErr  error
	uploadTPSErr error
	uploadDirErr error
	submitID   string
	submitErr  error
	pollSeq    []remote.PollResultKind
	pollErr    error
	downloadFiles []string
	downloadErr   error

	pollCalls int
}

func (f *fakeRemote) EnsureRemoteDirs(ctx context.Context, caseDir, csvOutputDir, rawDoseDir string) error {
	return f.ensureErr
}

func (f *fakeRemote) UploadTPSFile(ctx context.Context, content []byte, remotePath string) error {
	return f.uploadTPSErr
}

func (f *fakeRemote) UploadCaseDir(ctx context.Context, local, remoteDir string) error {
	return f.uploadDirErr
}

func (f *fakeRemote) SubmitJob(ctx context.Context, remoteDir, group, label, cmdLine string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeRemote) PollTaskStatus(ctx context.Context, taskID string) (remote.PollResultKind, error) {
	if f.pollErr != nil {
		return remote.PollUnreachable, f.pollErr
	}
	if f.pollCalls >= len(f.pollSeq) {
		return f.pollSeq[len(f.pollSeq)-1], nil
	}
	k := f.pollSeq[f.pollCalls]
	f.pollCalls++
	return k, nil
}

func (f *fakeRemote) DownloadResults(ctx context.Context, remoteDir, localDir string) ([]string, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.downloadFiles, nil
}
