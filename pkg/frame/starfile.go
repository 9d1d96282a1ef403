package frame

import(
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mtarenghi/psfcross/pkg/starcat"
	"github.com/mtarenghi/psfcross/pkg/wcs"
)

// ReadStarPositions parses a plain two-column RA/Dec list (degrees, no
// header, '#' comments allowed). Used to override catalog stars when
// the field has too few usable ones.
func ReadStarPositions(r io.Reader) ([]wcs.Sky, error) {
	out := []wcs.Sky{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("star list line %d: want 'RA Dec', got %q", line, text)
		}
		ra, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("star list line %d: bad RA %q", line, fields[0])
		}
		dec, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("star list line %d: bad Dec %q", line, fields[1])
		}
		out = append(out, wcs.Sky{RA: ra, Dec: dec})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("star list: %v", err)
	}
	return out, nil
}

// ReadCatalog parses a three-column RA/Dec/magnitude list (degrees and
// mag, no header, '#' comments allowed), as exported from a catalog
// query. Unlike an override star list, these entries still go through
// curation before use.
func ReadCatalog(r io.Reader) ([]starcat.Entry, error) {
	out := []starcat.Entry{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("catalog line %d: want 'RA Dec Mag', got %q", line, text)
		}
		ra, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: bad RA %q", line, fields[0])
		}
		dec, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: bad Dec %q", line, fields[1])
		}
		mag, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: bad magnitude %q", line, fields[2])
		}
		out = append(out, starcat.Entry{Pos: wcs.Sky{RA: ra, Dec: dec}, Mag: mag})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("catalog: %v", err)
	}
	return out, nil
}
