package backup

import (
	sp "github.com/scipipe/scipipe"
	spcomp "github.com/scipipe/scipipe/components"
)

// EncryptWorkflow packs, encrypts and checksums one run. Paths are relative
// to the directory holding the run, which must be the working directory
// when the workflow runs.
type EncryptWorkflow struct {
	*sp.Workflow
}

// EncryptWorkflowParams is a container for parameters to
// NewEncryptWorkflow
type EncryptWorkflowParams struct {
	// RunName is the run folder, or <run>.tar.gz when Packed is set
	RunName     string
	Packed      bool
	Excludes    []string
	PigzThreads int
	Receiver    string
	// Verify adds the md5 sums of the plain and the decrypted archive
	Verify bool
	// LogFile receives the scipipe audit log. It must not be relative, as
	// the workflow runs next to the run.
	LogFile string
}

// NewEncryptWorkflow returns an initialized EncryptWorkflow
func NewEncryptWorkflow(maxTasks int, params EncryptWorkflowParams) *EncryptWorkflow {
	wf := sp.NewWorkflowCustomLogFile("encrypt_"+params.RunName, maxTasks, params.LogFile)

	src := spcomp.NewFileSource(wf, "src_"+params.RunName, params.RunName)
	zip := src.Out()
	if !params.Packed {
		compress := NewCompress(wf, "compress", CompressConf{
			Excludes:    params.Excludes,
			PigzThreads: params.PigzThreads,
		})
		compress.InRunDir().From(src.Out())
		zip = compress.OutZip()
	}

	genKey := NewGenKey(wf, "gen_key")
	genKey.InZip().From(zip)

	encrypt := NewEncryptSymmetric(wf, "encrypt_zip")
	encrypt.InFile().From(zip)
	encrypt.InKey().From(genKey.OutKey())

	if params.Verify {
		md5Zip := NewMD5Sum(wf, "md5_zip")
		md5Zip.InFile().From(zip)

		md5Decrypted := NewDecryptMD5(wf, "md5_decrypted")
		md5Decrypted.InEncrypted().From(encrypt.OutEncrypted())
		md5Decrypted.InKey().From(genKey.OutKey())
	}

	encryptKey := NewEncryptKey(wf, "encrypt_key", EncryptKeyConf{Receiver: params.Receiver})
	encryptKey.InKey().From(genKey.OutKey())

	return &EncryptWorkflow{wf}
}
