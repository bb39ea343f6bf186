package cmd

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"

	"crossmake/pkg/toolchain"
)

const stampName = ".crossmake-toolchain.stamp"

var fetchToolchainCmd = &cobra.Command{
	Use:   "fetch-toolchain",
	Short: "Download and unpack the cross toolchain",
	Long: `Downloads the toolchain archive listed in toolchain.yml, verifies its SHA-256
checksum and unpacks it to the configured destination. Nothing is downloaded
if the recorded stamp still matches the configured archive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _, err := findUp(toolchain.DefaultFile)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return eris.Errorf("no %s found in this directory or any parent", toolchain.DefaultFile)
			}
			return err
		}

		tc, err := toolchain.Load(filepath.Join(root, toolchain.DefaultFile))
		if err != nil {
			return err
		}

		if tc.Archive == nil {
			return eris.Errorf("%s has no archive section", toolchain.DefaultFile)
		}

		if tc.Archive.Sha256 == "" {
			return eris.New("the toolchain archive doesn't have a checksum")
		}

		return fetchToolchain(root, tc.Archive)
	},
}

func init() {
	rootCmd.AddCommand(fetchToolchainCmd)
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func fetchToolchain(root string, spec *toolchain.Archive) error {
	stampPath := filepath.Join(root, stampName)
	stampToken := spec.URL + "#" + spec.Sha256

	destPath := filepath.Join(root, spec.Dest)
	destInfo, err := os.Stat(destPath)
	destExists := err == nil

	stamp, err := os.ReadFile(stampPath)
	if err == nil && string(stamp) == stampToken && destExists {
		printTask("Toolchain is up to date")
		return nil
	}

	printTask("Downloading " + spec.URL)

	arHandle, err := os.CreateTemp(root, "toolchain_dl")
	if err != nil {
		return eris.Wrap(err, "failed to create download file")
	}
	defer func() {
		arHandle.Close()
		os.Remove(arHandle.Name())
	}()

	client := &http.Client{
		Timeout: time.Minute * 30,
	}

	resp, err := client.Get(spec.URL)
	if err != nil {
		return eris.Wrapf(err, "failed to start download for %s", spec.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("download of %s failed with status %s", spec.URL, resp.Status)
	}

	hash := sha256.New()
	bar := getProgressBar(resp.ContentLength, "     download")
	_, err = io.Copy(io.MultiWriter(arHandle, hash, bar), resp.Body)
	if err != nil {
		return eris.Wrapf(err, "failed during download of %s", spec.URL)
	}
	bar.Finish()

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != spec.Sha256 {
		return eris.Errorf("checksum check failed: got %s, want %s", digest, spec.Sha256)
	}

	if destExists {
		printTask("Removing " + destPath)
		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return err
		}
	}

	printTask("Unpacking to " + destPath)
	extract, err := getExtractor(spec.URL)
	if err != nil {
		return err
	}

	_, err = arHandle.Seek(0, io.SeekStart)
	if err != nil {
		return eris.Wrap(err, "failed to rewind download file")
	}

	bar = getProgressBar(resp.ContentLength, "      unpack")
	err = extract(arHandle, bar, destPath, spec.Strip)
	if err != nil {
		return err
	}

	err = os.WriteFile(stampPath, []byte(stampToken), 0660)
	if err != nil {
		return eris.Wrapf(err, "failed to write stamp file %s", stampPath)
	}

	printTask("Done")
	return nil
}

type archiveExtractor func(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error

func getExtractor(url string) (archiveExtractor, error) {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			defer reader.Close()

			return extractTar(reader, f, bar, destPath, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
			return extractTar(bzip2.NewReader(f), f, bar, destPath, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return err
			}

			return extractTar(reader, f, bar, destPath, strip)
		}, nil
	}

	return nil, eris.Errorf("archive format of %s is not supported", url)
}

// openExtractorDest maps an archive entry to its destination file, stripping
// the first strip path elements. A nil handle means the entry resolves to the
// destination root and should be skipped.
func openExtractorDest(destPath, item string, strip int) (*os.File, string, error) {
	pathParts := strings.Split(filepath.Clean(item), string(filepath.Separator))
	if strip >= len(pathParts) {
		return nil, "", nil
	}

	dest := filepath.Join(destPath, strings.Join(pathParts[strip:], string(filepath.Separator)))
	if dest == destPath {
		return nil, "", nil
	}

	if !strings.HasPrefix(dest, destPath+string(filepath.Separator)) {
		return nil, "", eris.Errorf("archive entry %s escapes the destination directory", item)
	}

	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, os.FileMode(0770))
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create directory %s", destParent)
	}

	destHandle, err := os.Create(dest)
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return err
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, strip)
		if err != nil {
			return err
		}

		if destHandle == nil {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			destHandle.Close()
			return eris.Wrap(err, "failed to open archive entry")
		}

		_, err = io.Copy(destHandle, itemHandle)
		itemHandle.Close()
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to write extracted file %s", dest)
		}

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			bar.Set64(pos)
		}
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, strip)
		if err != nil {
			return err
		}

		if destHandle == nil {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			destHandle.Close()
			err = os.Remove(dest)
			if err != nil {
				return eris.Wrapf(err, "failed to remove placeholder file %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		_, err = io.Copy(destHandle, archive)
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to write extracted file %s", dest)
		}

		// zip and tar archives from CI systems don't always agree on modes,
		// so apply the recorded one explicitly
		os.Chmod(dest, fi.Mode())

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			bar.Set64(pos)
		}
	}

	return nil
}
