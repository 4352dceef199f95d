package testdata

import _ "embed"

//go:embed configs/users.conf
var TestUsersConf string

//go:embed configs/sftpbox.yaml
var TestGenericConfig string

//go:embed configs/suite.yaml
var TestSuiteConfig string
