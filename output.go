// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// OutputEnvVar names the file a step writes its outputs to
const OutputEnvVar = "CIMATRIX_OUTPUT"

// maxOutputSize caps the size of a step's output file
const maxOutputSize = 50 << 20

// CommandOutputs maps step ids to the outputs they produced
type CommandOutputs map[string]map[string]any

// ParseOutput parses KEY=VALUE lines and KEY<<DELIMITER heredocs from a step's output file
func ParseOutput(r io.Reader) (map[string]string, error) {
	if rs, ok := r.(io.Seeker); ok {
		size, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, err
		}
		if size > maxOutputSize {
			return nil, errors.New("output file too large")
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	scanner := bufio.NewScanner(io.LimitReader(r, maxOutputSize+1))
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputSize)

	result := make(map[string]string)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		eq := strings.IndexByte(line, '=')
		hd := strings.Index(line, "<<")

		switch {
		case eq >= 0 && (hd < 0 || eq < hd):
			result[line[:eq]] = line[eq+1:]
		case hd >= 0:
			key, delimiter := line[:hd], line[hd+2:]
			if delimiter == "" {
				return nil, errors.New("invalid syntax: missing delimiter after '<<'")
			}

			var lines []string
			terminated := false
			for scanner.Scan() {
				next := scanner.Text()
				if next == delimiter {
					terminated = true
					break
				}
				lines = append(lines, next)
			}
			if !terminated {
				if err := scanner.Err(); err != nil {
					return nil, err
				}
				return nil, errors.New("invalid syntax: multiline value not terminated")
			}
			result[key] = strings.Join(lines, "\n")
		default:
			return nil, errors.New("invalid syntax: non-delimited multiline value")
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, errors.New("output file too large")
		}
		return nil, err
	}

	return result, nil
}
