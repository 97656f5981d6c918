package version

const Version = "0.1.0"

var Authors = [][2]string{
	{"Qbit Engineering", "engineering@qbit.dev"},
}
