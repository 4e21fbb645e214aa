package obs

import "encoding/xml"

type sourceInfoXML struct {
	XMLName       xml.Name `xml:"sourceinfo"`
	Package       string   `xml:"package,attr"`
	Rev           string   `xml:"rev,attr"`
	SrcMD5        string   `xml:"srcmd5,attr"`
	VerifyMD5     string   `xml:"verifymd5,attr"`
	Error         string   `xml:"error"`
	OriginProject string   `xml:"originproject"`
}

type resultListXML struct {
	Results []struct {
		Project    string `xml:"project,attr"`
		Repository string `xml:"repository,attr"`
		Arch       string `xml:"arch,attr"`
		Dirty      string `xml:"dirty,attr"`
		Statuses   []struct {
			Package string `xml:"package,attr"`
			Code    string `xml:"code,attr"`
		} `xml:"status"`
	} `xml:"result"`
}

type lastSuccessXML struct {
	Repositories []struct {
		Name  string `xml:"name,attr"`
		Archs []struct {
			Arch string `xml:"arch,attr"`
		} `xml:"arch"`
	} `xml:"repository"`
}

type projectMetaXML struct {
	Repositories []struct {
		Name  string `xml:"name,attr"`
		Paths []struct {
			Project    string `xml:"project,attr"`
			Repository string `xml:"repository,attr"`
		} `xml:"path"`
		Archs []string `xml:"arch"`
	} `xml:"repository"`
}

type binaryListXML struct {
	Binaries []struct {
		Filename string `xml:"filename,attr"`
		Size     int64  `xml:"size,attr"`
		Mtime    int64  `xml:"mtime,attr"`
	} `xml:"binary"`
}

type directoryXML struct {
	LinkInfo *struct {
		Project string `xml:"project,attr"`
		Package string `xml:"package,attr"`
	} `xml:"linkinfo"`
}

type collectionXML struct {
	Projects []struct {
		Name string `xml:"name,attr"`
	} `xml:"project"`
}

type requestXML struct {
	ID      string `xml:"id,attr"`
	Creator string `xml:"creator,attr"`
	State   struct {
		Name string `xml:"name,attr"`
	} `xml:"state"`
	Actions []struct {
		Type   string `xml:"type,attr"`
		Source struct {
			Project string `xml:"project,attr"`
			Package string `xml:"package,attr"`
			Rev     string `xml:"rev,attr"`
		} `xml:"source"`
		Target struct {
			Project string `xml:"project,attr"`
			Package string `xml:"package,attr"`
		} `xml:"target"`
	} `xml:"action"`
	Reviews []struct {
		State     string `xml:"state,attr"`
		ByUser    string `xml:"by_user,attr"`
		ByGroup   string `xml:"by_group,attr"`
		ByProject string `xml:"by_project,attr"`
		ByPackage string `xml:"by_package,attr"`
	} `xml:"review"`
}

type aboutXML struct {
	XMLName  xml.Name `xml:"about"`
	Title    string   `xml:"title"`
	Revision string   `xml:"revision"`
}
