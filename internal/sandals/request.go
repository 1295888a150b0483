package sandals

import (
	"io"
	"math"
	"time"

	"github.com/nestybox/sandals/internal/jsonval"
)

// PipeKind distinguishes an ordinary output pipe from a one-shot
// copyFiles entry.
type PipeKind int

const (
	PipeRegular PipeKind = iota
	PipeCopyFile
)

// PipeSpec is one element of the output plan.
type PipeSpec struct {
	Kind     PipeKind
	Dest     string
	Src      string // inside-sandbox fifo source path; "" means anonymous pipe
	AsStdout bool
	AsStderr bool
	Limit    int64
}

// MountSpec is one filesystem-view entry.
type MountSpec struct {
	Type    string
	Src     string
	Dest    string
	Options string
	RO      bool
}

// StdStreams configures the multiplexed stdout/stderr sink.
type StdStreams struct {
	Dest  string
	Limit int64
}

// Request is the immutable parsed form of the input JSON. It is built
// once by ParseRequest and shared read-only by every stage.
type Request struct {
	HostName      string
	DomainName    string
	UID           uint32
	GID           uint32
	Chroot        string
	Mounts        []MountSpec
	Cgroup        string
	CgroupRoot    string
	CgroupConfig  []jsonval.KV
	SeccompPolicy string
	VARandomize   bool
	Cmd           []string
	Env           []string
	WorkDir       string
	TimeLimit     time.Duration
	StdStreams    *StdStreams
	Pipes         []PipeSpec
	CopyFiles     []PipeSpec
}

const maxUint32AsDouble = float64(^uint32(0))

// ReadRequest reads the request JSON to EOF, then parses it.
func ReadRequest(r io.Reader) (*Request, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, Internal(err, "reading request")
	}
	root, jerr := jsonval.Parse(buf)
	if jerr != nil {
		return nil, Invalid("%v", jerr)
	}
	return ParseRequest(root)
}

// ParseRequest validates and converts a parsed JSON document into a
// Request, enumerating exactly the keys request_parse recognizes.
// Unknown top-level keys are a hard error.
func ParseRequest(root *jsonval.Value) (*Request, error) {
	obj, err := root.AsObject()
	if err != nil {
		return nil, Invalid("%v", err)
	}

	req := &Request{
		Chroot:      "/",
		VARandomize: true,
	}
	var stdstreams *jsonval.Value

	for _, kv := range obj {
		key, value := kv.Key, kv.Value
		var perr error
		switch key {
		case "hostName":
			req.HostName, perr = value.AsString()
		case "domainName":
			req.DomainName, perr = value.AsString()
		case "uid":
			perr = parseUint32(value, &req.UID)
		case "gid":
			perr = parseUint32(value, &req.GID)
		case "chroot":
			req.Chroot, perr = value.AsString()
		case "mounts":
			req.Mounts, perr = parseMounts(value)
		case "cgroup":
			req.Cgroup, perr = value.AsString()
		case "cgroupRoot":
			req.CgroupRoot, perr = value.AsString()
		case "cgroupConfig":
			req.CgroupConfig, perr = value.AsObject()
		case "seccompPolicy":
			req.SeccompPolicy, perr = value.AsString()
		case "vaRandomize":
			req.VARandomize, perr = value.AsBool()
		case "cmd":
			req.Cmd, perr = value.AsStringArray()
		case "env":
			req.Env, perr = value.AsStringArray()
		case "workDir":
			req.WorkDir, perr = value.AsString()
		case "timeLimit":
			perr = parseTimeLimit(value, req)
		case "stdStreams":
			stdstreams = value
		case "pipes":
			req.Pipes, perr = parsePipes(value, PipeRegular)
		case "copyFiles":
			req.CopyFiles, perr = parsePipes(value, PipeCopyFile)
		default:
			perr = jsonval.Unknown(value)
		}
		if perr != nil {
			return nil, Invalid("%v", perr)
		}
	}

	if stdstreams != nil {
		ss, err := parseStdStreams(stdstreams)
		if err != nil {
			return nil, Invalid("%v", err)
		}
		req.StdStreams = ss
	}

	if len(req.Cmd) == 0 {
		return nil, Invalid("'cmd' missing or empty")
	}

	return req, nil
}

func parseUint32(v *jsonval.Value, out *uint32) error {
	d, err := v.AsUDouble()
	if err != nil {
		return err
	}
	if d > maxUint32AsDouble {
		return &jsonval.Error{Path: v.Path, Message: "value too big"}
	}
	*out = uint32(d)
	return nil
}

func parseTimeLimit(v *jsonval.Value, req *Request) error {
	d, err := v.AsUDouble()
	if err != nil {
		return err
	}
	intPart, frac := math.Modf(d)
	const maxSeconds = float64(math.MaxInt64) / float64(time.Second)
	if intPart > maxSeconds {
		intPart = maxSeconds
	}
	req.TimeLimit = time.Duration(intPart)*time.Second + time.Duration(frac*1e9)*time.Nanosecond
	return nil
}

func parseStdStreams(v *jsonval.Value) (*StdStreams, error) {
	obj, err := v.AsObject()
	if err != nil {
		return nil, err
	}
	ss := &StdStreams{}
	for _, kv := range obj {
		switch kv.Key {
		case "dest":
			if ss.Dest, err = kv.Value.AsString(); err != nil {
				return nil, err
			}
		case "limit":
			d, err := kv.Value.AsUDouble()
			if err != nil {
				return nil, err
			}
			ss.Limit = capInt64(d)
		default:
			return nil, jsonval.Unknown(kv.Value)
		}
	}
	if ss.Dest == "" {
		return nil, &jsonval.Error{Path: v.Path, Message: "'dest' missing"}
	}
	return ss, nil
}

func parseMounts(v *jsonval.Value) ([]MountSpec, error) {
	arr, err := v.AsArray()
	if err != nil {
		return nil, err
	}
	out := make([]MountSpec, len(arr))
	for i, e := range arr {
		m, err := parseMount(e)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func parseMount(v *jsonval.Value) (MountSpec, error) {
	obj, err := v.AsObject()
	if err != nil {
		return MountSpec{}, err
	}
	var m MountSpec
	for _, kv := range obj {
		switch kv.Key {
		case "type":
			m.Type, err = kv.Value.AsString()
		case "src":
			m.Src, err = kv.Value.AsString()
		case "dest":
			m.Dest, err = kv.Value.AsString()
		case "options":
			m.Options, err = kv.Value.AsString()
		case "ro":
			m.RO, err = kv.Value.AsBool()
		default:
			err = jsonval.Unknown(kv.Value)
		}
		if err != nil {
			return MountSpec{}, err
		}
	}
	if m.Type == "bind" && m.Src == "" {
		return MountSpec{}, &jsonval.Error{Path: v.Path, Message: "'src' required for bind mount"}
	}
	if m.Src == "" {
		m.Src = m.Type
	}
	return m, nil
}

func parsePipes(v *jsonval.Value, kind PipeKind) ([]PipeSpec, error) {
	arr, err := v.AsArray()
	if err != nil {
		return nil, err
	}
	out := make([]PipeSpec, len(arr))
	for i, e := range arr {
		p, err := parsePipe(e, kind)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func parsePipe(v *jsonval.Value, kind PipeKind) (PipeSpec, error) {
	obj, err := v.AsObject()
	if err != nil {
		return PipeSpec{}, err
	}
	p := PipeSpec{Kind: kind, Limit: math.MaxInt64}
	for _, kv := range obj {
		switch kv.Key {
		case "dest":
			p.Dest, err = kv.Value.AsString()
		case "src":
			p.Src, err = kv.Value.AsString()
		case "asStdout":
			p.AsStdout, err = kv.Value.AsBool()
		case "asStderr":
			p.AsStderr, err = kv.Value.AsBool()
		case "limit":
			var d float64
			d, err = kv.Value.AsUDouble()
			if err == nil {
				p.Limit = capInt64(d)
			}
		default:
			err = jsonval.Unknown(kv.Value)
		}
		if err != nil {
			return PipeSpec{}, err
		}
	}
	if p.Dest == "" {
		return PipeSpec{}, &jsonval.Error{Path: v.Path, Message: "'dest' missing"}
	}
	return p, nil
}

func capInt64(d float64) int64 {
	return int64(jsonval.FormatUDoubleAsUint64(d, uint64(math.MaxInt64)))
}
