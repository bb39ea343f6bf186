package buildsys

import (
	"encoding/gob"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

func init() {
	gob.Register(TargetList{})
	gob.Register(Target{})
	gob.Register(CmdScript{})
	gob.Register(CmdTargetRef{})
}

type cacheHeader struct {
	ScriptMod time.Time
	Options   map[string]string
}

// ErrCacheStale is returned by ReadCache when the build script changed after
// the cache was written.
var ErrCacheStale = eris.New("cache is older than the build script")

// WriteCache stores the parsed target list and the options it was configured
// with so later runs can skip re-evaluating the script.
func WriteCache(file, script string, options map[string]string, list TargetList) error {
	info, err := os.Stat(script)
	if err != nil {
		return eris.Wrapf(err, "failed to check %s", script)
	}

	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(cacheHeader{
		ScriptMod: info.ModTime(),
		Options:   options,
	})
	if err != nil {
		return err
	}

	return encoder.Encode(list)
}

// ReadCache loads a target list written by WriteCache. It fails with
// ErrCacheStale if the script was modified after the cache was written.
func ReadCache(file, script string) (map[string]string, TargetList, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var header cacheHeader
	err = decoder.Decode(&header)
	if err != nil {
		return nil, nil, err
	}

	info, err := os.Stat(script)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to check %s", script)
	}

	if info.ModTime().After(header.ScriptMod) {
		return header.Options, nil, ErrCacheStale
	}

	var result TargetList
	err = decoder.Decode(&result)
	if err != nil {
		return header.Options, nil, err
	}

	return header.Options, result, nil
}
