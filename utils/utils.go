package utils

import (
	"log"
	"os"
	"regexp"
)

// E.164 i.e a leading '+' followed by 2-15 digits
var e164Regexp = regexp.MustCompile(`^\+[0-9]{2,15}$`)

func IsValidE164(phoneNumber string) bool {
	return e164Regexp.MatchString(phoneNumber)
}

func FileExist(filePath string) bool {
	var err error

	if _, err = os.Stat(filePath); os.IsNotExist(err) {
		return false
	}

	if err != nil {
		log.Panic(err)
	}

	return true
}

func CreateDirIfNotExist(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err := os.Mkdir(dir, 0755)
		if err != nil {
			return err
		}
	}

	return nil
}
