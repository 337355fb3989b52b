package catalog

import "github.com/zamazir/THMmonitor/processor/conversion"

// defaultEntries lists the THM sensors in record order.
var defaultEntries = []Entry{
	{"Payload Temperature OW1", "Payload", "Toppanel", conversion.DS18B20},
	{"Payload Temperature OW2", "Payload", "Toppanel", conversion.DS18B20},
	{"Payload Temperature OW3", "Payload", "Toppanel", conversion.DS18B20},
	{"Payload Temperature OW4", "Payload", "Toppanel", conversion.DS18B20},
	{"Payload Temperature OW5", "Payload", "Toppanel", conversion.DS18B20},
	{"Payload Temperature OW6", "Payload", "Toppanel", conversion.DS18B20},
	{"ADCS Sidepanel X+ Temperature BMX", "ADCS", "Sidepanel X+", conversion.BMX055},
	{"ADCS Sidepanel X+ Temperature OW1", "ADCS", "Sidepanel X+", conversion.DS18B20},
	{"ADCS Sidepanel X+ Temperature OW2", "ADCS", "Sidepanel X+", conversion.DS18B20},
	{"ADCS Sidepanel X+ Temperature OW3", "ADCS", "Sidepanel X+", conversion.DS18B20},
	{"ADCS Sidepanel X- Temperature BMX", "ADCS", "Sidepanel X-", conversion.BMX055},
	{"ADCS Sidepanel X- Temperature OW1", "ADCS", "Sidepanel X-", conversion.DS18B20},
	{"ADCS Sidepanel X- Temperature OW2", "ADCS", "Sidepanel X-", conversion.DS18B20},
	{"ADCS Sidepanel X- Temperature OW3", "ADCS", "Sidepanel X-", conversion.DS18B20},
	{"ADCS Sidepanel Y+ Temperature BMX", "ADCS", "Sidepanel Y+", conversion.BMX055},
	{"ADCS Sidepanel Y+ Temperature OW1", "ADCS", "Sidepanel Y+", conversion.DS18B20},
	{"ADCS Sidepanel Y+ Temperature OW2", "ADCS", "Sidepanel Y+", conversion.DS18B20},
	{"ADCS Sidepanel Y+ Temperature OW3", "ADCS", "Sidepanel Y+", conversion.DS18B20},
	{"ADCS Sidepanel Y- Temperature BMX", "ADCS", "Sidepanel Y-", conversion.BMX055},
	{"ADCS Sidepanel Y- Temperature OW1", "ADCS", "Sidepanel Y-", conversion.DS18B20},
	{"ADCS Sidepanel Y- Temperature OW2", "ADCS", "Sidepanel Y-", conversion.DS18B20},
	{"ADCS Sidepanel Y- Temperature OW3", "ADCS", "Sidepanel Y-", conversion.DS18B20},
	{"ADCS Sidepanel Z+ Temperature OW1", "ADCS", "Toppanel", conversion.DS18B20},
	{"ADCS Sidepanel Z+ Temperature OW2", "ADCS", "Toppanel", conversion.DS18B20},
	{"ADCS Sidepanel Z+ Temperature OW3", "ADCS", "Toppanel", conversion.DS18B20},
	{"ADCS Sidepanel Z+ Temperature OW4", "ADCS", "Toppanel", conversion.DS18B20},
	{"ADCS Mainpanel Z- Temperature BMX", "ADCS", "Mainpanel", conversion.BMX055},
	{"ADCS Mainpanel Z- Temperature OW1", "ADCS", "Mainpanel", conversion.DS18B20},
	{"EPS Board Temperature", "EPS", "EPS Board", conversion.MCP9802},
	{"EPS Battery Board Temperature", "EPS", "EPS Board", conversion.NoChange},
	{"EPS Battery Temperature 1", "EPS", "Battery", conversion.KelvinToCelsius},
	{"EPS Battery Temperature 2", "EPS", "Battery", conversion.KelvinToCelsius},
	{"COM S-Band Temperature 1", "COM", "S-Band", conversion.UnknownCOM},
	{"COM S-Band Temperature 2", "COM", "S-Band", conversion.UnknownCOM},
	{"COM S-Band Temperature 3", "COM", "S-Band", conversion.UnknownCOM},
	{"COM UHF-VHF Temperature 1", "COM", "UHF-VHF", conversion.LT55599},
	{"COM UHF-VHF Temperature 2", "COM", "UHF-VHF", conversion.LT55599},
	{"COM UHF-VHF Temperature 3", "COM", "UHF-VHF", conversion.LT55599},
	{"CDH Temperature 1", "CDH", "CDH", conversion.EMC1701},
}
