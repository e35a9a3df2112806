package appimage

import (
	"debug/elf"
	"errors"
)

// sectionRegion describes where a named section lives inside the file.
type sectionRegion struct {
	offset int64
	length int64
}

// elfSectionRegion looks the named section up in the ELF section table.
// The second return value reports whether the section exists.
func elfSectionRegion(path, name string) (sectionRegion, bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) {
			// Not an ELF file (or a corrupt one): treated like a missing
			// section rather than an I/O failure.
			return sectionRegion{}, false, nil
		}
		return sectionRegion{}, false, newError(path, "error opening embedded ELF image", err)
	}
	defer f.Close()

	section := f.Section(name)
	if section == nil || section.Type == elf.SHT_NOBITS {
		return sectionRegion{}, false, nil
	}

	return sectionRegion{
		offset: int64(section.Offset),
		length: int64(section.Size),
	}, true, nil
}

// readSection returns the contents of the named section, trimmed at the
// first NUL byte. A missing section yields an empty result, not an error.
func (a *AppImage) readSection(name string) ([]byte, error) {
	f, err := elf.Open(a.path)
	if err != nil {
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) {
			return nil, nil
		}
		return nil, newError(a.path, "error opening embedded ELF image", err)
	}
	defer f.Close()

	section := f.Section(name)
	if section == nil || section.Type == elf.SHT_NOBITS {
		return nil, nil
	}

	data, err := section.Data()
	if err != nil {
		return nil, newError(a.path, "error reading section "+name, err)
	}

	return trimAtNul(data), nil
}
