package main

import "lms-zabbix-sync/cmd"

func main() {
	cmd.Execute()
}
