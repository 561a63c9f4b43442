//go:build linux

package storage

import "syscall"

var linuxFilesystemMagic = map[int64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
}

func filesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", err
	}
	if name, ok := linuxFilesystemMagic[int64(st.Type)]; ok {
		return name, nil
	}
	return "local", nil
}
