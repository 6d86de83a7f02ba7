package backup

import (
	"strings"

	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/utils"
)

// Compress packs a run folder into <run>.tar.gz with tar and pigz
type Compress struct {
	*sp.Process
}

// CompressConf contains parameters for initializing a
// Compress process
type CompressConf struct {
	Excludes    []string
	PigzThreads int
}

// NewCompress returns a new Compress process
func NewCompress(wf *sp.Workflow, name string, params CompressConf) *Compress {
	excludes := make([]string, 0, len(params.Excludes))
	for _, ex := range params.Excludes {
		excludes = append(excludes, "--exclude="+utils.Quote(ex))
	}
	threads := params.PigzThreads
	if threads < 1 {
		threads = 1
	}
	cmd := `set -o pipefail; ` +
		`tar -C $(dirname {i:rundir}) ` + strings.Join(append(excludes, ""), " ") +
		`-cf - $(basename {i:rundir}) | ` +
		utils.Fs(`pigz -p %d > {o:zip}`, threads)
	p := wf.NewProc(name, cmd)
	p.SetOut("zip", "{i:rundir}.tar.gz")
	return &Compress{p}
}

// InRunDir returns the RunDir in-port
func (p *Compress) InRunDir() *sp.InPort {
	return p.In("rundir")
}

// OutZip returns the Zip out-port
func (p *Compress) OutZip() *sp.OutPort {
	return p.Out("zip")
}

// GenKey draws a 256 byte random passphrase with gpg
type GenKey struct {
	*sp.Process
}

// NewGenKey returns a new GenKey process. The key is named after the
// archive it will encrypt: <run>.tar.gz gives <run>.key.
func NewGenKey(wf *sp.Workflow, name string) *GenKey {
	p := wf.NewProc(name, `gpg --gen-random 1 256 > {o:key} # {i:zip}`)
	p.SetOutFunc("key", func(t *sp.Task) string {
		return strings.TrimSuffix(t.InPath("zip"), ".tar.gz") + ".key"
	})
	return &GenKey{p}
}

// InZip returns the Zip in-port
func (p *GenKey) InZip() *sp.InPort {
	return p.In("zip")
}

// OutKey returns the Key out-port
func (p *GenKey) OutKey() *sp.OutPort {
	return p.Out("key")
}

// EncryptSymmetric encrypts a file with AES256, using a key file as
// passphrase. The input is compressed already.
type EncryptSymmetric struct {
	*sp.Process
}

// NewEncryptSymmetric returns a new EncryptSymmetric process
func NewEncryptSymmetric(wf *sp.Workflow, name string) *EncryptSymmetric {
	cmd := `gpg --symmetric --cipher-algo aes256 ` +
		`--passphrase-file {i:key} ` +
		`--batch --compress-algo none ` +
		`-o {o:encrypted} {i:in}`
	p := wf.NewProc(name, cmd)
	p.SetOut("encrypted", "{i:in}.gpg")
	return &EncryptSymmetric{p}
}

// InFile returns the File in-port
func (p *EncryptSymmetric) InFile() *sp.InPort {
	return p.In("in")
}

// InKey returns the Key in-port
func (p *EncryptSymmetric) InKey() *sp.InPort {
	return p.In("key")
}

// OutEncrypted returns the Encrypted out-port
func (p *EncryptSymmetric) OutEncrypted() *sp.OutPort {
	return p.Out("encrypted")
}

// MD5Sum writes the md5 sum of a file, and nothing else, to <file>.md5
type MD5Sum struct {
	*sp.Process
}

// NewMD5Sum returns a new MD5Sum process
func NewMD5Sum(wf *sp.Workflow, name string) *MD5Sum {
	p := wf.NewProc(name, `set -o pipefail; md5sum {i:in} | cut -f1 -d' ' > {o:md5}`)
	p.SetOut("md5", "{i:in}.md5")
	return &MD5Sum{p}
}

// InFile returns the File in-port
func (p *MD5Sum) InFile() *sp.InPort {
	return p.In("in")
}

// OutMD5 returns the MD5 out-port
func (p *MD5Sum) OutMD5() *sp.OutPort {
	return p.Out("md5")
}

// DecryptMD5 decrypts a symmetrically encrypted file on the fly and writes
// the md5 sum of the plain text to <file>.md5
type DecryptMD5 struct {
	*sp.Process
}

// NewDecryptMD5 returns a new DecryptMD5 process
func NewDecryptMD5(wf *sp.Workflow, name string) *DecryptMD5 {
	cmd := `set -o pipefail; ` +
		`gpg --decrypt --cipher-algo aes256 --passphrase-file {i:key} --batch {i:encrypted} | ` +
		`md5sum | cut -f1 -d' ' > {o:md5}`
	p := wf.NewProc(name, cmd)
	p.SetOut("md5", "{i:encrypted}.md5")
	return &DecryptMD5{p}
}

// InEncrypted returns the Encrypted in-port
func (p *DecryptMD5) InEncrypted() *sp.InPort {
	return p.In("encrypted")
}

// InKey returns the Key in-port
func (p *DecryptMD5) InKey() *sp.InPort {
	return p.In("key")
}

// OutMD5 returns the MD5 out-port
func (p *DecryptMD5) OutMD5() *sp.OutPort {
	return p.Out("md5")
}

// EncryptKey encrypts the passphrase to the public key of a recipient
type EncryptKey struct {
	*sp.Process
}

// EncryptKeyConf contains parameters for initializing an
// EncryptKey process
type EncryptKeyConf struct {
	Receiver string
}

// NewEncryptKey returns a new EncryptKey process
func NewEncryptKey(wf *sp.Workflow, name string, params EncryptKeyConf) *EncryptKey {
	p := wf.NewProc(name, `gpg --batch --encrypt --recipient {p:receiver} -o {o:keygpg} {i:key}`)
	p.InParam("receiver").FromStr(params.Receiver)
	p.SetOut("keygpg", "{i:key}.gpg")
	return &EncryptKey{p}
}

// InKey returns the Key in-port
func (p *EncryptKey) InKey() *sp.InPort {
	return p.In("key")
}

// OutKeyGPG returns the encrypted key out-port
func (p *EncryptKey) OutKeyGPG() *sp.OutPort {
	return p.Out("keygpg")
}
