package api

import (
	"errors"
	"net/mail"
	"unicode/utf8"
)

func validateUsername(username string) error {
	if username == "" {
		return errors.New("用户名不能为空")
	}
	if n := utf8.RuneCountInString(username); n < 3 || n > 50 {
		return errors.New("用户名长度应为 3-50 个字符")
	}
	return nil
}

func validateRegisterRequest(req *registerRequest) error {
	if err := validateUsername(req.Username); err != nil {
		return err
	}
	if req.Name == "" {
		return errors.New("姓名不能为空")
	}
	if utf8.RuneCountInString(req.Name) > 50 {
		return errors.New("姓名不能超过 50 个字符")
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return errors.New("邮箱格式不正确")
		}
	}
	if utf8.RuneCountInString(req.Phone) > 20 {
		return errors.New("电话不能超过 20 个字符")
	}
	return nil
}
